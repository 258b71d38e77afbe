package model

// Per-test artifact names, relative to the test work dir.
const (
	ElfFile       = "dut.elf"
	DisassFile    = "dut.disass"
	MemImageFile  = "code.mem"
	RawDumpFile   = "rtl.dump"
	DumpFile      = "dut.dump"
	LogFile       = "app_log"
	SignatureFile = "signature"
	CoverageDir   = "coverage"
)
