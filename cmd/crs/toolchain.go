package main

import (
	"bufio"
	"os"
	"strings"

	"github.com/sauzeros/crs/internal/crs/errs"
	"github.com/sauzeros/crs/internal/crs/plan"
)

// loadToolchain reads a toolchain descriptor file: key=value lines
// naming cc, cxx, ar, cflags, cxxflags, ldflags, identity. Detecting and
// driving an actual compiler toolchain is an external-collaborator
// concern; this is the simplest reader satisfying plan.Toolchain's
// shape, following config.Load's own line-scanning style rather than a
// structured format nothing else in the CLI calls for.
func loadToolchain(path string) (plan.Toolchain, error) {
	if path == "" {
		return defaultToolchain(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return plan.Toolchain{}, errs.WrapKind(errs.KindUserInput, err, "open toolchain descriptor "+path)
	}
	defer f.Close()

	tc := defaultToolchain()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		switch key {
		case "identity":
			tc.Identity = val
		case "cc":
			tc.CC = val
		case "cxx":
			tc.CXX = val
		case "ar":
			tc.AR = val
		case "cflags":
			tc.CFlags = strings.Fields(val)
		case "cxxflags":
			tc.CXXFlags = strings.Fields(val)
		case "ldflags":
			tc.LDFlags = strings.Fields(val)
		}
	}
	if err := scanner.Err(); err != nil {
		return plan.Toolchain{}, errs.WrapKind(errs.KindUserInput, err, "read toolchain descriptor "+path)
	}
	return tc, nil
}

func defaultToolchain() plan.Toolchain {
	return plan.Toolchain{
		Identity: "cc-default",
		CC:       "cc",
		CXX:      "c++",
		AR:       "ar",
	}
}
