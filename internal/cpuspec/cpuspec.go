// Package cpuspec detects CPU performance core counts for sizing DSP
// worker pools on hybrid architectures.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	PerformanceCores int
	EfficiencyCores  int
}

// GetCPUSpec returns CPU specifications including the number of performance cores
func GetCPUSpec() CPUSpec {
	brandName := cpuid.CPU.BrandName

	return CPUSpec{
		BrandName:        brandName,
		PerformanceCores: determinePerformanceCores(brandName),
	}
}

// GetOptimalThreadCount returns the recommended number of threads for
// audio processing work. On hybrid architectures only the performance
// cores count, an E-core servicing the render loop causes underruns.
func (c CPUSpec) GetOptimalThreadCount() int {
	// Actual available CPU count matters in VMs and cgroups
	availableCPUs := runtime.NumCPU()

	if c.PerformanceCores > 0 {
		if c.PerformanceCores > availableCPUs {
			return availableCPUs
		}
		return c.PerformanceCores
	}

	return cpuid.CPU.LogicalCores
}

var (
	intelCoreRegex = regexp.MustCompile(`intel.*(?:core.*i[357,9]-(\d{5})|core.*ultra\s+([579])\s+(?:processor\s+)?(\d{3}))`)
	appleRegex     = regexp.MustCompile(`(?i)apple\s+(m[123,4]\s*(pro|max|ultra)?)\s*`)
)

// pCoreByModel maps known hybrid Intel desktop models to their P-core counts.
var pCoreByModel = map[string]int{
	// 12th gen
	"12900": 8, "12700": 8, "12600": 6, "12400": 6, "12100": 4,
	// 13th gen
	"13900": 8, "13700": 8, "13600": 6, "13500": 6, "13400": 6, "13100": 4,
	// 14th gen
	"14900": 8, "14700": 8, "14600": 6, "14400": 6, "14100": 4,
}

// pCoreByUltraModel maps Core Ultra models to their P-core counts.
var pCoreByUltraModel = map[string]int{
	"285": 8, "265": 8, "255": 8, "235": 6, "225": 4,
}

// pCoreByAppleChip maps Apple Silicon chips to their performance core counts.
var pCoreByAppleChip = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 8, "m3 max": 12, "m3 ultra": 24,
	"m4": 6, "m4 pro": 8, "m4 max": 12,
}

func determinePerformanceCores(brandName string) int {
	brandName = strings.ToLower(brandName)

	if matches := intelCoreRegex.FindStringSubmatch(brandName); len(matches) > 1 {
		if matches[1] != "" {
			if cores, ok := pCoreByModel[matches[1]]; ok {
				return cores
			}
		} else if matches[3] != "" {
			if cores, ok := pCoreByUltraModel[matches[3]]; ok {
				return cores
			}
		}
	}

	if matches := appleRegex.FindStringSubmatch(brandName); len(matches) > 1 {
		chip := strings.ToLower(strings.TrimSpace(matches[1]))
		if cores, ok := pCoreByAppleChip[chip]; ok {
			return cores
		}
	}

	// Unknown or non-hybrid CPU
	return 0
}
