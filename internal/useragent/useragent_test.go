package useragent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  cgminer/4.11.1 ":        "cgminer",
		"bfgminer (custom build)": "bfgminer",
		"My Rig 1.0":              "My Rig 1.0",
		"   ":                     "Other",
		"":                        "Other",
		"cgminer/4.11 (extra)":    "cgminer",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestRecalcWorkerUA(t *testing.T) {
	assert.Equal(t, "previous", RecalcWorkerUA("previous", nil))
	assert.Equal(t, "cgminer", RecalcWorkerUA("previous", []string{"cgminer/4.1"}))
	assert.Equal(t, "Other", RecalcWorkerUA("previous", []string{"cgminer/4.1", "bfgminer/5.1"}))
}
