package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
)

type captureEngine struct {
	batches []*tracepb.TracesData
}

func (c *captureEngine) AddTraces(batch *tracepb.TracesData) {
	c.batches = append(c.batches, batch)
}

func TestExportEnqueuesResourceSpans(t *testing.T) {
	engine := &captureEngine{}
	receiver := NewTraceReceiver(engine, logger.NewTestLogger())

	req := &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{}},
	}

	resp, err := receiver.Export(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Nil(t, resp.PartialSuccess)
	require.Len(t, engine.batches, 1)
	require.Len(t, engine.batches[0].ResourceSpans, 1)
}

func TestExportSkipsEmptyRequests(t *testing.T) {
	engine := &captureEngine{}
	receiver := NewTraceReceiver(engine, logger.NewTestLogger())

	resp, err := receiver.Export(context.Background(), &coltracepb.ExportTraceServiceRequest{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Empty(t, engine.batches)

	resp, err = receiver.Export(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Empty(t, engine.batches)
}
