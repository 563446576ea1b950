package telephony

import (
	"context"
	"net/url"
)

// MockProvider is a mock implementation of Provider for testing.
type MockProvider struct {
	PlaceFn  func(ctx context.Context, req PlaceRequest) (*PlaceResult, error)
	HangupFn func(ctx context.Context, externalID string) error
}

// Place calls the mock function.
func (m *MockProvider) Place(ctx context.Context, req PlaceRequest) (*PlaceResult, error) {
	if m.PlaceFn != nil {
		return m.PlaceFn(ctx, req)
	}
	return &PlaceResult{ExternalID: "CA_mock123", Status: "queued", To: req.To}, nil
}

// Hangup calls the mock function.
func (m *MockProvider) Hangup(ctx context.Context, externalID string) error {
	if m.HangupFn != nil {
		return m.HangupFn(ctx, externalID)
	}
	return nil
}

// MockVerifier is a mock implementation of SignatureVerifier for testing.
type MockVerifier struct {
	VerifyFn func(fullURL string, params url.Values, signature string) error
}

// Verify calls the mock function.
func (m *MockVerifier) Verify(fullURL string, params url.Values, signature string) error {
	if m.VerifyFn != nil {
		return m.VerifyFn(fullURL, params, signature)
	}
	return nil
}
