package dictionary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arighi/modbus-rtu-sniff/frame"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadRegistersBasic(t *testing.T) {
	content := "; comment line\n" +
		"# another comment\n" +
		"\n" +
		"0x0000,2,ABCD,u16,V,0.1,V,Voltage,Line voltage\n" +
		"0x0001,4,ABCD,f32,W,1,W,Power,\n" +
		"0x0002,2,ABCD,u16,,,,Spare,has, embedded, commas\n"

	path := writeTemp(t, "registers.csv", content)

	table, err := LoadRegisters(path)
	if err != nil {
		t.Fatalf("LoadRegisters: %v", err)
	}
	if len(table) != 3 {
		t.Fatalf("expected 3 registers, got %d", len(table))
	}

	v, ok := table[0x0000]
	if !ok {
		t.Fatalf("expected register 0x0000 to be present")
	}
	if v.Name != "Voltage" || v.Datatype != frame.U16 || v.LengthBytes != 2 {
		t.Errorf("unexpected register 0: %+v", v)
	}
	if v.FactorToPreferredUnit != 0.1 {
		t.Errorf("expected factor 0.1, got %v", v.FactorToPreferredUnit)
	}

	spare := table[0x0002]
	if spare.Description != "has, embedded, commas" {
		t.Errorf("expected folded description, got %q", spare.Description)
	}
}

func TestLoadRegistersMissingFile(t *testing.T) {
	if _, err := LoadRegisters("/nonexistent/path.csv"); err == nil {
		t.Fatalf("expected an error opening a missing dictionary")
	}
}

func TestLoadRegistersSkipsMalformedLines(t *testing.T) {
	content := "not a csv line at all\n" +
		"0x0000,2,ABCD,u16,V,0.1,V,Voltage,Line voltage\n" +
		"bogus,2,ABCD,u16,V,0.1,V,Bad,bad address\n"

	path := writeTemp(t, "registers.csv", content)

	table, err := LoadRegisters(path)
	if err != nil {
		t.Fatalf("LoadRegisters: %v", err)
	}
	if len(table) != 1 {
		t.Fatalf("expected only the one well-formed line to load, got %d entries", len(table))
	}
}

func TestLoadCommandsBasic(t *testing.T) {
	content := "; command dictionary\n" +
		"0x03,ReadHoldingRegisters,125,0x0000-0xFFFF,reads holding registers\n" +
		"0x10,WriteMultipleRegisters,123,0-65535,writes multiple registers, with a comma in the description\n"

	path := writeTemp(t, "commands.csv", content)

	table, err := LoadCommands(path)
	if err != nil {
		t.Fatalf("LoadCommands: %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(table))
	}

	rd := table[0x03]
	if rd.Name != "ReadHoldingRegisters" || rd.MaxRegistersPerRequest != 125 {
		t.Errorf("unexpected command 3: %+v", rd)
	}
	if rd.MinAddress != 0x0000 || rd.MaxAddress != 0xFFFF {
		t.Errorf("unexpected address range: %04X-%04X", rd.MinAddress, rd.MaxAddress)
	}

	wr := table[0x10]
	if wr.Description != "writes multiple registers, with a comma in the description" {
		t.Errorf("expected folded description, got %q", wr.Description)
	}
}

func TestLoadCommandsMissingFile(t *testing.T) {
	if _, err := LoadCommands("/nonexistent/path.csv"); err == nil {
		t.Fatalf("expected an error opening a missing dictionary")
	}
}

func TestParseAddressRangeSingleValue(t *testing.T) {
	min, max, err := parseAddressRange("0x10")
	if err != nil {
		t.Fatalf("parseAddressRange: %v", err)
	}
	if min != 0x10 || max != 0x10 {
		t.Errorf("expected a single-value range to collapse to min==max, got %d-%d", min, max)
	}
}
