package metrics

import (
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"rebalancer/src/datamodels"
	"rebalancer/src/utils/errors"
)

// CurvePlotter renders equity curves to a single PNG line chart so the
// strategy and its benchmarks can be eyeballed side by side.
type CurvePlotter struct {
	filename string
	curves   []namedCurve
}

type namedCurve struct {
	name  string
	curve []datamodels.EquityCurvePoint
}

func NewCurvePlotter(filename string) *CurvePlotter {
	return &CurvePlotter{filename: filename}
}

func (p *CurvePlotter) WithCurve(name string, curve []datamodels.EquityCurvePoint) *CurvePlotter {
	p.curves = append(p.curves, namedCurve{name: name, curve: curve})
	return p
}

func (p *CurvePlotter) Save() error {
	if p.filename == "" {
		return errors.New("plot filename is not set")
	}
	if len(p.curves) == 0 {
		return errors.New("no curves to plot")
	}

	plt := plot.New()
	plt.Title.Text = "Portfolio Value"
	plt.X.Label.Text = "Date"
	plt.Y.Label.Text = "Value"
	plt.X.Tick.Marker = plot.TimeTicks{Format: datamodels.DateLayout}
	plt.Add(plotter.NewGrid())
	plt.Legend.Top = true

	for i, nc := range p.curves {
		pts := make(plotter.XYs, len(nc.curve))
		for j, point := range nc.curve {
			pts[j].X = float64(point.Date.Unix())
			pts[j].Y = point.Value
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "failed to build line for %s", nc.name)
		}
		line.Color = plotutil.Color(i % len(plotutil.DefaultColors))
		plt.Add(line)
		plt.Legend.Add(nc.name, line)
	}

	if err := os.MkdirAll(filepath.Dir(p.filename), 0755); err != nil {
		return errors.Wrapf(err, "failed to create plot directory for %s", p.filename)
	}
	if err := plt.Save(10*vg.Inch, 6*vg.Inch, p.filename); err != nil {
		return errors.Wrapf(err, "failed to save plot %s", p.filename)
	}
	return nil
}
