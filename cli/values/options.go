package values

import (
	"fmt"

	"helm.sh/helm/v3/pkg/strvals"
)

// Options holds configuration overrides given on the command line.
type Options struct {
	Values []string
}

// MergeValues applies every --set expression on top of base, which is
// typically the decoded configuration file. base may be nil.
func (opts *Options) MergeValues(base map[string]interface{}) (map[string]interface{}, error) {
	if base == nil {
		base = make(map[string]interface{})
	}

	// User specified a value via --set
	for _, value := range opts.Values {
		if err := strvals.ParseInto(value, base); err != nil {
			return nil, fmt.Errorf("failed parsing --set data: %v", err)
		}
	}
	return base, nil
}
