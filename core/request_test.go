package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestContext_Lookup(t *testing.T) {
	ctx := RequestContext{
		"ip":        "1.2.3.4",
		"userAgent": "Mozilla",
		"headers": map[string]interface{}{
			"x-forwarded-for": "5.6.7.8",
			"nested": map[string]interface{}{
				"deep": 42,
			},
		},
		"explicitNil": nil,
	}

	tests := []struct {
		name    string
		field   string
		want    interface{}
		present bool
	}{
		{"top-level field", "ip", "1.2.3.4", true},
		{"nested field", "headers.x-forwarded-for", "5.6.7.8", true},
		{"doubly nested field", "headers.nested.deep", 42, true},
		{"missing top-level", "country", nil, false},
		{"missing nested", "headers.missing", nil, false},
		{"path through non-map", "ip.subfield", nil, false},
		{"explicit nil is absent", "explicitNil", nil, false},
		{"empty field", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, present := ctx.Lookup(tt.field)
			assert.Equal(t, tt.present, present)
			if tt.present {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRequestContext_LookupNilContext(t *testing.T) {
	var ctx RequestContext
	_, present := ctx.Lookup("ip")
	assert.False(t, present)
}
