package acq

// Well known server ports of an appliance.
const (
	// SiteBasePort is the command port of site 0 (the chassis controller). Site N listens on SiteBasePort+N.
	SiteBasePort = 4220
	// SegmentWritePort accepts segment definitions, one per line.
	SegmentWritePort = 4250
	// SegmentReadPort dumps the loaded segments and closes.
	SegmentReadPort = 4251
	// StatusPort streams one status line per update.
	StatusPort = 2235
	// DataBasePort is the base of the bulk data ports. Channel N is served on DataBasePort+N.
	DataBasePort = 53000
)

// Chassis is the site index of the chassis controller.
const Chassis = 0

// Well known chassis knobs.
const (
	// KnobSiteList reports the populated sites, e.g. "2,1=ACQ424ELF,2=AO424ELF".
	KnobSiteList = "SITELIST"
	// KnobState reports the current status line in the same layout as the status port.
	KnobState = "state"
	// KnobNChan reports the number of acquisition channels.
	KnobNChan = "NCHAN"
	// KnobModel reports the site model name.
	KnobModel = "MODEL"
)
