//go:build !linux

package bench

func cpuTimes() (CPUTime, bool) {
	return CPUTime{}, false
}
