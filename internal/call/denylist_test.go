package call

import (
	"testing"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/stretchr/testify/assert"
)

func TestOverride_Matches(t *testing.T) {
	o := DefaultOverride()

	tests := []struct {
		number string
		want   bool
	}{
		{"+18007742678", true},
		{"8007742678", true},
		{"1-800-806-6453", true},
		{"(888) 221-1161", true},
		{"+15551234567", false},
		{"", false},
		{"800774267", false},
	}

	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			assert.Equal(t, tt.want, o.Matches(tt.number))
		})
	}
}

func TestOverride_Apply(t *testing.T) {
	o := Override{Numbers: []string{"5550001111"}, MinConfidence: 0.9}

	out := o.Apply("+1 555 000 1111", amd.Outcome{Result: amd.Human, Confidence: 0.6})
	assert.Equal(t, amd.Machine, out.Result)
	assert.InDelta(t, 0.9, out.Confidence, 1e-9)

	out = o.Apply("+1 555 000 2222", amd.Outcome{Result: amd.Human, Confidence: 0.6})
	assert.Equal(t, amd.Human, out.Result)
	assert.InDelta(t, 0.6, out.Confidence, 1e-9)
}

func TestOverride_ApplyZeroFloor(t *testing.T) {
	o := Override{Numbers: []string{"5550001111"}}

	out := o.Apply("5550001111", amd.Outcome{Result: amd.Human, Confidence: 0.6})

	assert.Equal(t, amd.Machine, out.Result)
	assert.InDelta(t, 0.6, out.Confidence, 1e-9, "zero floor keeps the detector confidence")
}

func TestDigits(t *testing.T) {
	assert.Equal(t, "18007742678", Digits("+1 (800) 774-2678"))
	assert.Equal(t, "", Digits("abc"))
}

func TestCall_ResultLabelAndClone(t *testing.T) {
	c := New("u", "+15551234567", amd.MLModel, time.Now())
	assert.Equal(t, "unknown", c.ResultLabel())
	assert.Equal(t, StatusInitiated, c.Status)

	res := amd.Machine
	conf := 0.9
	ext := "CA123"
	c.Result, c.Confidence, c.ExternalID = &res, &conf, &ext

	cp := c.Clone()
	*cp.Result = amd.Human
	*cp.ExternalID = "CA999"

	assert.Equal(t, "machine", c.ResultLabel())
	assert.Equal(t, "CA123", *c.ExternalID)
}
