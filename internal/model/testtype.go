package model

import "github.com/rotisserie/eris"

// TestType identifies the kind of electrical test a report documents.
type TestType string

const (
	TestGrounding    TestType = "GROUNDING"
	TestMegger       TestType = "MEGGER"
	TestThermography TestType = "THERMOGRAPHY"
)

// ParseTestType validates a test-type string from user input.
func ParseTestType(s string) (TestType, error) {
	switch TestType(s) {
	case TestGrounding, TestMegger, TestThermography:
		return TestType(s), nil
	default:
		return "", eris.Errorf("model: unknown test type %q", s)
	}
}

// DocumentType identifies the kind of evidence image an extractor handles.
type DocumentType string

const (
	DocThermalImage DocumentType = "thermal_image"
	DocVisiblePhoto DocumentType = "visible_photo"
	DocCertificate  DocumentType = "calibration_certificate"
)

// ParseDocumentType validates a document-type string from user input.
func ParseDocumentType(s string) (DocumentType, error) {
	switch DocumentType(s) {
	case DocThermalImage, DocVisiblePhoto, DocCertificate:
		return DocumentType(s), nil
	default:
		return "", eris.Errorf("model: unknown document type %q", s)
	}
}
