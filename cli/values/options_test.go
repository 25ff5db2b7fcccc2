package values

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeValues(t *testing.T) {
	tests := []struct {
		name    string
		base    map[string]interface{}
		values  []string
		want    map[string]interface{}
		wantErr bool
	}{
		{
			name: "nil base",
			base: nil,
			want: map[string]interface{}{},
		},
		{
			name:   "set nested key",
			base:   nil,
			values: []string{"log.level=debug"},
			want: map[string]interface{}{
				"log": map[string]interface{}{"level": "debug"},
			},
		},
		{
			name: "override file value",
			base: map[string]interface{}{
				"log": map[string]interface{}{"level": "info", "path": "/tmp/a.log"},
			},
			values: []string{"log.level=warn,metric.scrapInterval=5"},
			want: map[string]interface{}{
				"log":    map[string]interface{}{"level": "warn", "path": "/tmp/a.log"},
				"metric": map[string]interface{}{"scrapInterval": int64(5)},
			},
		},
		{
			name:   "list value",
			values: []string{"watch={/etc/a,/etc/b}"},
			want: map[string]interface{}{
				"watch": []interface{}{"/etc/a", "/etc/b"},
			},
		},
		{
			name:    "malformed expression",
			values:  []string{"log.level"},
			wantErr: true,
		},
	}

	assert := assert.New(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &Options{Values: tt.values}
			got, err := opts.MergeValues(tt.base)
			if tt.wantErr {
				assert.NotNil(err)
				return
			}
			assert.Nil(err)
			assert.Equal(tt.want, got)
		})
	}
}
