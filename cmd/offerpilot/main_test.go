package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TobiSchelling/offerpilot/internal/offer"
)

func TestPrintFunnelShowsEveryStage(t *testing.T) {
	dq := &offer.DataQualityError{
		Strict:  offer.Funnel{{Name: "start", Count: 40}, {Name: "missing_field", Count: 31}, {Name: "price", Count: 0}},
		Relaxed: offer.Funnel{{Name: "start", Count: 40}, {Name: "missing_field", Count: 31}, {Name: "price", Count: 0}},
	}

	var buf bytes.Buffer
	printFunnel(&buf, fmt.Errorf("pick: %w", dq))
	out := buf.String()
	assert.Contains(t, out, "Eligibility funnel:")
	assert.Contains(t, out, "strict:  start=40 -> missing_field=31 -> price=0")
	assert.Contains(t, out, "relaxed: start=40 -> missing_field=31 -> price=0")
}

func TestPrintFunnelIgnoresOtherErrors(t *testing.T) {
	var buf bytes.Buffer
	printFunnel(&buf, errors.New("network down"))
	assert.Empty(t, buf.String())
}
