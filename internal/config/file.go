package config

import (
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/wardfw/ward/internal/errors"
)

// SetOption writes a single top-level option into the HCL config file at
// path, creating the file if it doesn't exist yet, and preserving any
// other attributes and comments already present. It validates the
// resulting file decodes and passes Validate before returning, so a
// rejected option never corrupts the file on disk.
//
// Grounded on the teacher's ConfigFile.SetAttribute/toCtyValue: that
// code keeps a parsed hclwrite.File around for round-trip editing across
// many calls; this module only needs a one-shot "change this option and
// persist it" operation, so it re-parses on each call instead of holding
// long-lived state.
func SetOption(path, name string, value any) error {
	var data []byte
	if existing, err := os.ReadFile(path); err == nil {
		data = existing
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.KindInternal, "read config file %s", path)
	}

	file, diags := hclwrite.ParseConfig(data, path, hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return errors.Errorf(errors.KindValidation, "parse config file %s: %s", path, diags.Error())
	}

	ctyVal, err := toCtyValue(value)
	if err != nil {
		return errors.Wrapf(err, errors.KindValidation, "option %s", name)
	}
	file.Body().SetAttributeValue(name, ctyVal)

	newData := file.Bytes()
	if err := validateCandidate(newData); err != nil {
		return err
	}

	if err := os.WriteFile(path, newData, 0o600); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "write config file %s", path)
	}
	return nil
}

// validateCandidate writes nothing to the real config path; it decodes
// the not-yet-persisted bytes through a temp file and runs Load's
// validation, so a bad SetOption call fails before the file on disk is
// touched.
func validateCandidate(data []byte) error {
	tmp, err := os.CreateTemp("", "ward-config-*.hcl")
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "create validation temp file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(data); err != nil {
		return errors.Wrap(err, errors.KindInternal, "write validation temp file")
	}
	if _, err := Load(tmp.Name()); err != nil {
		return err
	}
	return nil
}

// toCtyValue converts a Go value to the cty representation hclwrite
// needs to render an attribute, following the teacher's
// internal/config/hcl.go toCtyValue switch.
func toCtyValue(v any) (cty.Value, error) {
	switch val := v.(type) {
	case bool:
		return cty.BoolVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case float64:
		return cty.NumberFloatVal(val), nil
	case string:
		return cty.StringVal(val), nil
	case []string:
		if len(val) == 0 {
			return cty.ListValEmpty(cty.String), nil
		}
		vals := make([]cty.Value, len(val))
		for i, s := range val {
			vals[i] = cty.StringVal(s)
		}
		return cty.ListVal(vals), nil
	default:
		return cty.NilVal, errors.Errorf(errors.KindValidation, "unsupported option value type: %T", v)
	}
}
