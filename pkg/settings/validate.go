package settings

import (
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ValidateDocument checks a YAML config file against JSONSchema. It returns
// one description per violation; an empty result means the document is
// valid.
func ValidateDocument(doc []byte) ([]string, error) {
	var v interface{}
	if err := yaml.Unmarshal(doc, &v); err != nil {
		return nil, errors.Wrap(err, "could not parse config")
	}
	if v == nil {
		v = map[string]interface{}{}
	}

	schemaLoader := gojsonschema.NewGoLoader(JSONSchema())
	documentLoader := gojsonschema.NewGoLoader(v)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to validate config")
	}

	var ret []string
	for _, desc := range result.Errors() {
		ret = append(ret, desc.String())
	}
	return ret, nil
}
