// Package fixtures loads query seed files.
package fixtures

import (
	"bytes"
	_ "embed"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/models"
)

//go:embed sample_queries.yaml
var defaultSeed []byte

// File is the layout of a seed file.
type File struct {
	Queries []*models.Query `yaml:"queries"`
}

// Load decodes a seed document. Unknown fields are rejected so that a typo
// does not silently drop data.
func Load(r io.Reader) ([]*models.Query, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return []*models.Query{}, nil
		}
		return nil, errors.Wrap(err, errors.CodeInvalidRequest, "failed to parse seed file")
	}
	for i, q := range f.Queries {
		if q == nil {
			return nil, errors.Newf(errors.CodeInvalidRequest, "seed query %d is empty", i)
		}
	}
	if f.Queries == nil {
		f.Queries = []*models.Query{}
	}
	return f.Queries, nil
}

// LoadFile reads a seed file from disk.
func LoadFile(path string) ([]*models.Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeNotFound, "failed to open seed file %s", path)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the bundled sample queries, one per display status plus
// one with a status the console does not recognize.
func Default() ([]*models.Query, error) {
	return Load(bytes.NewReader(defaultSeed))
}
