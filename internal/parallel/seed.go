package parallel

// Seed derives an independent, reproducible seed for one unit of work from a
// base seed and its coordinates (round, pass, resample index, ...).
// It folds each part through splitmix64 so nearby coordinates do not yield
// correlated math/rand streams.
func Seed(base int64, parts ...int) int64 {
	x := uint64(base)
	for _, p := range parts {
		x = splitmix64(x ^ uint64(int64(p)))
	}
	return int64(splitmix64(x) >> 1)
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
