package service

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// defaultFeedbackSchema applies to requests without their own schema:
// responses are a flat map of short strings.
const defaultFeedbackSchema = `{
  "type": "object",
  "maxProperties": 50,
  "propertyNames": {"minLength": 1, "maxLength": 100},
  "additionalProperties": {"type": "string", "maxLength": 4000}
}`

var defaultSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return compileSchema(defaultFeedbackSchema)
})

func compileSchema(src string) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
}

// validateResponses checks responses against the request's schema, or the
// default one when schemaSrc is empty.  At most five violations are
// reported.
func validateResponses(schemaSrc string, responses map[string]string) error {
	var (
		schema *gojsonschema.Schema
		err    error
	)
	if strings.TrimSpace(schemaSrc) == "" {
		schema, err = defaultSchema()
	} else {
		schema, err = compileSchema(schemaSrc)
	}
	if err != nil {
		return fmt.Errorf("load feedback schema: %w", err)
	}
	doc := make(map[string]any, len(responses))
	for k, v := range responses {
		doc[k] = v
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return err
	}
	if !res.Valid() {
		var msgs []string
		for i, e := range res.Errors() {
			if i >= 5 {
				break
			}
			msgs = append(msgs, e.String())
		}
		return validation("responses: %s", strings.Join(msgs, "; "))
	}
	return nil
}
