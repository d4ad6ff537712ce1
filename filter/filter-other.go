//go:build !linux
// +build !linux

package filter

import "github.com/pkg/errors"

func NewFilter(identifier string) (Filter, error) {
	return nil, errors.Errorf("RST filtering %q needs iptables, which is only available on linux", identifier)
}
