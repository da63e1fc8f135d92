package symbols

import (
	"encoding/json"
	"os"

	"rebalancer/src/utils/errors"
)

// Dictionary maps instrument codes to display names. The file is a flat
// JSON object, e.g. {"005930": "Samsung Electronics"}.
type Dictionary struct {
	codeToName map[string]string
}

func NewDictionaryFromFile(path string) (*Dictionary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open symbols file")
	}
	defer file.Close()

	codeToName := make(map[string]string)
	if err := json.NewDecoder(file).Decode(&codeToName); err != nil {
		return nil, errors.Wrap(err, "failed to parse symbols file")
	}

	return &Dictionary{codeToName: codeToName}, nil
}

// NewEmptyDictionary returns a dictionary that resolves every code to
// itself. Used when no symbols file is configured.
func NewEmptyDictionary() *Dictionary {
	return &Dictionary{codeToName: map[string]string{}}
}

// NameFor returns the display name for a code, falling back to the code
// itself when unknown.
func (d *Dictionary) NameFor(code string) string {
	if name, ok := d.codeToName[code]; ok {
		return name
	}
	return code
}

func (d *Dictionary) Len() int { return len(d.codeToName) }
