// Package schemaregistry implements the SchemaRegistry capability
// (spec.md §4.7): built-in Invoice/Receipt/Generic schemas plus detection
// of the best-fit schema for an unclassified document's first page.
package schemaregistry

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/local/docengine/internal/errs"
	"github.com/local/docengine/internal/model"
	"github.com/local/docengine/internal/visionextractor"
)

const detectionConfidenceFloor = 0.5

// GenericSchemaName is the fallback used when detection confidence is
// below detectionConfidenceFloor, or when no hint/detection is possible.
const GenericSchemaName = "generic"

func builtins() map[string]model.Schema {
	return map[string]model.Schema{
		"invoice": {
			Name:        "invoice",
			Description: "A vendor invoice billing for goods or services",
			Fields: map[string]model.FieldSpec{
				"invoice_number": {Type: model.FieldText, Description: "Invoice identifier"},
				"invoice_date":   {Type: model.FieldDate, Description: "Date the invoice was issued"},
				"due_date":       {Type: model.FieldDate, Description: "Payment due date"},
				"vendor_name":    {Type: model.FieldText, Description: "Name of the billing vendor"},
				"customer_name":  {Type: model.FieldText, Description: "Name of the billed customer"},
				"line_items":     {Type: model.FieldArray, Description: "Itemized goods/services with quantity and price"},
				"subtotal":       {Type: model.FieldNumber, Description: "Subtotal before tax"},
				"tax":            {Type: model.FieldNumber, Description: "Tax amount"},
				"total":          {Type: model.FieldNumber, Description: "Total amount due"},
				"currency":       {Type: model.FieldText, Description: "ISO currency code"},
			},
			RequiredFields: []string{"invoice_number", "total"},
		},
		"receipt": {
			Name:        "receipt",
			Description: "A point-of-sale purchase receipt",
			Fields: map[string]model.FieldSpec{
				"merchant_name": {Type: model.FieldText, Description: "Name of the merchant"},
				"transaction_date": {Type: model.FieldDate, Description: "Date of purchase"},
				"items":         {Type: model.FieldArray, Description: "Purchased items with price"},
				"subtotal":      {Type: model.FieldNumber, Description: "Subtotal before tax"},
				"tax":           {Type: model.FieldNumber, Description: "Tax amount"},
				"total":         {Type: model.FieldNumber, Description: "Total amount paid"},
				"payment_method": {Type: model.FieldText, Description: "Method of payment used"},
			},
			RequiredFields: []string{"total"},
		},
		GenericSchemaName: {
			Name:        GenericSchemaName,
			Description: "An unclassified document; extract any clearly labeled key-value fields",
			Fields: map[string]model.FieldSpec{
				"title":   {Type: model.FieldText, Description: "Document title or subject"},
				"date":    {Type: model.FieldDate, Description: "Any primary date on the document"},
				"summary": {Type: model.FieldText, Description: "One or two sentence summary of the document's content"},
			},
		},
	}
}

// Registry serves built-in schemas and schema detection.
type Registry struct {
	schemas   map[string]model.Schema
	extractor *visionextractor.Extractor
}

func New(extractor *visionextractor.Extractor) *Registry {
	return &Registry{schemas: builtins(), extractor: extractor}
}

func (r *Registry) List() []model.Schema {
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]model.Schema, len(names))
	for i, n := range names {
		out[i] = r.schemas[n]
	}
	return out
}

func (r *Registry) Get(name string) (model.Schema, error) {
	s, ok := r.schemas[name]
	if !ok {
		return model.Schema{}, errs.New(errs.UnknownSchema, fmt.Sprintf("schema %q is not registered", name))
	}
	return s, nil
}

// Detect identifies the best-fit schema for a page image by asking the
// VisionExtractor to classify it against a dedicated schema_detection
// schema that lists the registered schema names, falling back to Generic when confidence is below the floor (spec.md
// §4.7). Detection runs once per document, against the first page only,
// per spec.md's resolved Open Question.
func (r *Registry) Detect(ctx context.Context, pageJPEG []byte) (model.DetectionResult, error) {
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		if n == GenericSchemaName {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)

	detectSchema := model.Schema{
		Name:        "schema_detection",
		Description: "Identify which document type this page belongs to",
		Fields: map[string]model.FieldSpec{
			"schema_name": {Type: model.FieldText, Description: "One of: " + joinNames(names) + ", or \"generic\" if none fit"},
			"confidence":  {Type: model.FieldNumber, Description: "Confidence in [0,1] that schema_name is correct"},
		},
		RequiredFields: []string{"schema_name", "confidence"},
	}

	req := visionextractor.Request{
		PageNum:      1,
		ImageBase64:  base64.StdEncoding.EncodeToString(pageJPEG),
		ImageMIME:    "image/jpeg",
		Schema:       detectSchema,
		SystemPrompt: visionextractor.DefaultSystemPrompt(),
	}
	result, err := r.extractor.Extract(ctx, req)
	if err != nil {
		return model.DetectionResult{}, err
	}

	name := GenericSchemaName
	if v, ok := result.Fields["schema_name"]; ok && v.Kind == model.KindText {
		if _, known := r.schemas[v.Text]; known {
			name = v.Text
		}
	}
	confidence := result.Confidence["confidence"]

	if confidence < detectionConfidenceFloor {
		name = GenericSchemaName
	}

	suggested := make(map[string]string, len(r.schemas[name].Fields))
	for f, spec := range r.schemas[name].Fields {
		suggested[f] = string(spec.Type)
	}

	return model.DetectionResult{SchemaName: name, Confidence: confidence, SuggestedFields: suggested}, nil
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
