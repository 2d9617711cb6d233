package merge

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Stats summarises one merge run.
type Stats struct {
	PCHSubnets    int
	PCHAddrs      int
	PDBSubnets    int
	PDBAddrs      int
	UserSubnets   int
	UserAddrs     int
	Reserved      int
	Subnets       SubnetStats
	UserEvicted   int
	ASNConflicts  int
	Dirty         int
	FinalSubnets  int
	FinalAddrs    int
	MultiIdentity int
	Members       int
}

// Report writes the statistics as an aligned table.
func (s Stats) Report(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		value int
	}{
		{"PCH subnets", s.PCHSubnets},
		{"PCH member addresses", s.PCHAddrs},
		{"PeeringDB subnets", s.PDBSubnets},
		{"PeeringDB member addresses", s.PDBAddrs},
		{"User subnets", s.UserSubnets},
		{"User addresses", s.UserAddrs},
		{"Reserved prefixes", s.Reserved},
		{"Subnets in reserved space", s.Subnets.Reserved},
		{"Subnets overridden by user", s.Subnets.User + s.UserEvicted},
		{"Nested subnets merged", s.Subnets.Merged},
		{"Nested subnets redundant", s.Subnets.Redundant},
		{"Addresses with conflicting ASNs", s.ASNConflicts},
		{"Dirty addresses", s.Dirty},
		{"Final subnets", s.FinalSubnets},
		{"Final subnets with several names", s.MultiIdentity},
		{"Final member addresses", s.FinalAddrs},
		{"Member ASNs", s.Members},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%d\n", r.label, r.value); err != nil {
			return err
		}
	}
	return tw.Flush()
}
