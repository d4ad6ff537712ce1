// Package filter keeps the host kernel from answering segments addressed to a
// user-space listener with RSTs.
package filter

type Filter interface {
	AddTcpServerFiltering(srcAddr string, srcPort int) error    // blocks RST packets sent from the listening address and port.
	RemoveTcpServerFiltering(srcAddr string, srcPort int) error // removes the rule added by AddTcpServerFiltering.
	FinishFiltering() error                                     // flushes all rules carrying this filter's identifier.
}
