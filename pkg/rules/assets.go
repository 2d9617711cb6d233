package rules

import (
	"bytes"
	_ "embed"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/sudorandom/ixpdetect/pkg/utils"
)

//go:embed data/rules.txt
var defaultRules []byte

//go:embed data/expressions.txt
var defaultExpressions []byte

//go:embed data/delimiters.txt
var defaultDelimiters []byte

// openOr opens path, or returns the built-in content when path is empty.
func openOr(path string, builtin []byte) (io.ReadCloser, error) {
	if path == "" {
		return io.NopCloser(bytes.NewReader(builtin)), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	return f, nil
}

// Files locates the rule, keyword and delimiter files. Empty paths select
// the built-in files.
type Files struct {
	Rules       string
	Expressions string
	Delimiters  string
}

// LoadFiles reads the grammar and compiles the rule file.
func LoadFiles(f Files) ([]Rule, []error, error) {
	ex, err := openOr(f.Expressions, defaultExpressions)
	if err != nil {
		return nil, nil, err
	}
	defer utils.CloseLogged(ex, "keyword file")
	dl, err := openOr(f.Delimiters, defaultDelimiters)
	if err != nil {
		return nil, nil, err
	}
	defer utils.CloseLogged(dl, "delimiter file")
	g, err := LoadGrammar(ex, dl)
	if err != nil {
		return nil, nil, err
	}

	rf, err := openOr(f.Rules, defaultRules)
	if err != nil {
		return nil, nil, err
	}
	defer utils.CloseLogged(rf, "rule file")
	rs, errs := Load(rf, g)
	return rs, errs, nil
}
