package visionextractor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/local/docengine/internal/model"
)

// DefaultSystemPrompt adapts the source's vision-extraction system prompt
// (internal/config.DefaultSystemPrompt) from raw-text OCR transcription to
// schema-guided structured field extraction.
func DefaultSystemPrompt() string {
	return `You are an expert document analysis AI with advanced vision and field-extraction capabilities.

RULES:
- You will be given a named schema listing fields to extract from the page image, each with a type and description.
- Extract every field you can find evidence for on THIS page only; do not guess values not visibly present.
- Respond with a single JSON object mapping field name to value. Use null for fields not present on this page.
- Numbers must be JSON numbers (no currency symbols or thousands separators). Dates must be ISO-8601 strings.
- Booleans must be JSON true/false. Arrays must be JSON arrays. Do not wrap the JSON in markdown fences.
- Also include a sibling object named "_confidence" mapping the same field names to a confidence in [0,1].
- Never add commentary outside the JSON object.`
}

// BuildUserPrompt renders the per-page instruction: schema field list, the
// current page number, optional surrounding-page context, and an OCR text
// hint extracted by the rasterizer, mirroring the source's "CURRENT PAGE
// NUMBER / CONTEXT / MUPDF EXTRACTED TEXT" structure.
func BuildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CURRENT PAGE NUMBER: %d\n\n", req.PageNum)
	fmt.Fprintf(&b, "SCHEMA: %s — %s\n", req.Schema.Name, req.Schema.Description)
	b.WriteString("FIELDS:\n")

	names := make([]string, 0, len(req.Schema.Fields))
	for name := range req.Schema.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := req.Schema.Fields[name]
		reqTag := ""
		if req.Schema.IsRequired(name) {
			reqTag = " (required)"
		}
		fmt.Fprintf(&b, "- %s (%s)%s: %s\n", name, spec.Type, reqTag, spec.Description)
	}

	if req.ContextText != "" {
		fmt.Fprintf(&b, "\nCONTEXT (from surrounding pages):\n%s\n", req.ContextText)
	}
	if req.OCRText != "" {
		fmt.Fprintf(&b, "\nEMBEDDED TEXT (extracted from current page):\n%s\n", req.OCRText)
	}
	b.WriteString("\nReturn the JSON object now.")
	return b.String()
}

// ParseExtraction decodes the model's JSON field map into typed model.Value
// entries according to the schema's declared field types.
func ParseExtraction(raw map[string]interface{}, confRaw map[string]float64, schema model.Schema) (model.FieldMap, map[string]float64) {
	fields := make(model.FieldMap, len(raw))
	for name, v := range raw {
		spec, known := schema.Fields[name]
		if !known {
			fields[name] = coerceGuess(v)
			continue
		}
		fields[name] = coerceTyped(v, spec.Type)
	}
	return fields, confRaw
}

func coerceTyped(v interface{}, t model.FieldType) model.Value {
	if v == nil {
		return model.Null()
	}
	switch t {
	case model.FieldNumber:
		if f, ok := v.(float64); ok {
			return model.Number(f)
		}
		return model.Null()
	case model.FieldBool:
		if b, ok := v.(bool); ok {
			return model.Bool(b)
		}
		return model.Null()
	case model.FieldDate:
		if s, ok := v.(string); ok {
			return model.Date(s)
		}
		return model.Null()
	case model.FieldArray:
		arr, ok := v.([]interface{})
		if !ok {
			return model.Null()
		}
		vals := make([]model.Value, len(arr))
		for i, el := range arr {
			vals[i] = coerceGuess(el)
		}
		return model.Array(vals...)
	case model.FieldObject:
		obj, ok := v.(map[string]interface{})
		if !ok {
			return model.Null()
		}
		m := make(map[string]model.Value, len(obj))
		for k, el := range obj {
			m[k] = coerceGuess(el)
		}
		return model.Object(m)
	default:
		if s, ok := v.(string); ok {
			return model.Text(s)
		}
		return coerceGuess(v)
	}
}

func coerceGuess(v interface{}) model.Value {
	switch x := v.(type) {
	case nil:
		return model.Null()
	case string:
		return model.Text(x)
	case float64:
		return model.Number(x)
	case bool:
		return model.Bool(x)
	case []interface{}:
		vals := make([]model.Value, len(x))
		for i, el := range x {
			vals[i] = coerceGuess(el)
		}
		return model.Array(vals...)
	case map[string]interface{}:
		m := make(map[string]model.Value, len(x))
		for k, el := range x {
			m[k] = coerceGuess(el)
		}
		return model.Object(m)
	default:
		return model.Null()
	}
}
