package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/avesa-io/avesa/internal/avesaerr"
	"github.com/avesa-io/avesa/internal/model"
)

// Mock is a test SourceConnector serving canned pages in call order.
// Tests construct it directly; it satisfies spec.md §4.2's contract
// without any network dependency.
type Mock struct {
	Pages   []Page
	FailErr error

	calls int
}

// NewMock returns a Mock that serves pages in order, one per FetchPage
// call, regardless of the cursor/window arguments (tests drive those
// separately).
func NewMock(pages ...Page) *Mock {
	return &Mock{Pages: pages}
}

func (m *Mock) FetchPage(_ context.Context, _ model.EndpointConfig, _ Auth, _ *string, sinceTS, _ time.Time, _ int) (Page, error) {
	if m.FailErr != nil {
		return Page{}, m.FailErr
	}
	if m.calls >= len(m.Pages) {
		return Page{Records: nil, NextCursor: nil, RawLastUpdatedMax: sinceTS}, nil
	}
	p := m.Pages[m.calls]
	m.calls++
	return p, nil
}

func (m *Mock) SupportsResume() bool { return true }

// NewMockError builds a typed failure for Mock.FailErr, so tests can drive
// connector.Registry.FetchPage's error classification without a real HTTP
// server.
func NewMockError(kind avesaerr.Kind) error {
	return avesaerr.New("mock.FetchPage", kind, fmt.Errorf("mock failure"))
}
