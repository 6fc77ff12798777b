// Package dictionary loads the register and command dictionaries that
// drive the decoder: two flat, line-oriented CSV-like files, not RFC4180 —
// lines starting with ';' or '#' are comments, and any field beyond the
// last named one is folded back into the description with a ", " join
// rather than quoted, so encoding/csv's reader does not apply here.
package dictionary

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/arighi/modbus-rtu-sniff/frame"
)

// LoadRegisters reads a register dictionary file and returns the address
// to RegisterDefinition table the decoder consults. Failure to open the
// file is returned as an error; malformed lines are skipped with a
// warning written to stderr, matching the loader's original behavior of
// logging per-line problems without aborting the whole load.
func LoadRegisters(path string) (frame.RegisterTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open register dictionary: %w", err)
	}
	defer f.Close()

	table := make(frame.RegisterTable)

	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, ",") {
			fmt.Fprintf(os.Stderr, "register dictionary: invalid line #%d: %s\n", lineNo, line)
			continue
		}

		def, err := parseRegisterLine(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "register dictionary: line #%d: %v\n", lineNo, err)
			continue
		}

		table[def.Address] = def
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read register dictionary: %w", err)
	}

	return table, nil
}

// LoadCommands reads a command dictionary file and returns the function
// code to CommandDefinition table.
func LoadCommands(path string) (frame.CommandTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open command dictionary: %w", err)
	}
	defer f.Close()

	table := make(frame.CommandTable)

	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, ",") {
			fmt.Fprintf(os.Stderr, "command dictionary: invalid line #%d: %s\n", lineNo, line)
			continue
		}

		def, err := parseCommandLine(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "command dictionary: line #%d: %v\n", lineNo, err)
			continue
		}

		table[def.FunctionCode] = def
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read command dictionary: %w", err)
	}

	return table, nil
}

// parseRegisterLine parses one register record:
// address,length_bytes,orientation,datatype,unit,factor,preferred_unit,name,description[,more description...]
func parseRegisterLine(line string) (frame.RegisterDefinition, error) {
	fields := splitFoldingTrailer(line, 9)
	if len(fields) < 9 {
		return frame.RegisterDefinition{}, fmt.Errorf("expected at least 9 fields, got %d", len(fields))
	}

	var def frame.RegisterDefinition

	address, err := parseIntField(fields[0])
	if err != nil {
		return def, fmt.Errorf("address: %w", err)
	}
	def.Address = uint16(address)

	length, err := parseIntField(fields[1])
	if err != nil {
		return def, fmt.Errorf("length_bytes: %w", err)
	}
	def.LengthBytes = uint16(length)

	def.Orientation = fields[2]

	dt, err := frame.ParseDatatype(fields[3])
	if err != nil {
		return def, err
	}
	def.Datatype = dt

	def.Unit = fields[4]

	if fields[5] != "" {
		factor, err := strconv.ParseFloat(fields[5], 64)
		if err != nil {
			return def, fmt.Errorf("factor_to_preferred_unit: %w", err)
		}
		def.FactorToPreferredUnit = factor
	}

	def.PreferredUnit = fields[6]
	def.Name = fields[7]
	def.Description = fields[8]

	return def, nil
}

// parseCommandLine parses one command record:
// function_code,name,max_registers_per_request,min_address-max_address,description[,more description...]
func parseCommandLine(line string) (frame.CommandDefinition, error) {
	fields := splitFoldingTrailer(line, 5)
	if len(fields) < 5 {
		return frame.CommandDefinition{}, fmt.Errorf("expected at least 5 fields, got %d", len(fields))
	}

	var def frame.CommandDefinition

	fc, err := parseIntField(fields[0])
	if err != nil {
		return def, fmt.Errorf("function_code: %w", err)
	}
	def.FunctionCode = uint8(fc)

	def.Name = fields[1]

	maxAtOnce, err := parseIntField(fields[2])
	if err != nil {
		return def, fmt.Errorf("max_registers_per_request: %w", err)
	}
	def.MaxRegistersPerRequest = uint16(maxAtOnce)

	minAddr, maxAddr, err := parseAddressRange(fields[3])
	if err != nil {
		return def, fmt.Errorf("address range: %w", err)
	}
	def.MinAddress = minAddr
	def.MaxAddress = maxAddr

	def.Description = fields[4]

	return def, nil
}

// parseAddressRange parses a "min-max" range as used by the command
// dictionary's fourth field.
func parseAddressRange(s string) (min, max uint16, err error) {
	parts := strings.SplitN(s, "-", 2)

	minVal, err := parseIntField(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("min: %w", err)
	}
	min = uint16(minVal)

	if len(parts) < 2 {
		return min, min, nil
	}

	maxVal, err := parseIntField(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("max: %w", err)
	}
	max = uint16(maxVal)

	return min, max, nil
}

// parseIntField parses decimal, octal (leading 0) or hex (leading 0x)
// integers, matching the dictionary files' permissive numeric convention.
func parseIntField(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 0, 32)
}

// splitFoldingTrailer splits line on commas into at most want fields,
// trimming each; a line with fewer fields yields fewer. Any field beyond
// want is folded back into the last one joined by ", " rather than
// treated as a new field — the
// dictionary's own convention for free-form descriptions that happen to
// contain commas.
func splitFoldingTrailer(line string, want int) []string {
	raw := strings.Split(line, ",")
	for i := range raw {
		raw[i] = strings.TrimSpace(raw[i])
	}

	if len(raw) <= want {
		return raw
	}

	folded := make([]string, want)
	copy(folded, raw[:want])

	var tail strings.Builder
	tail.WriteString(folded[want-1])
	for _, extra := range raw[want:] {
		tail.WriteString(", ")
		tail.WriteString(extra)
	}
	folded[want-1] = tail.String()

	return folded
}
