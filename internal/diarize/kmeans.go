package diarize

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// KMeans partitions points into k clusters with k-means++ seeding and
// Lloyd iterations. The same seed always yields the same labels.
type KMeans struct {
	Seed     int64
	Restarts int
	MaxIter  int
	// Tol stops iterating once no centroid moves further than this.
	Tol float64
}

// DefaultKMeans returns a KMeans with ten restarts.
func DefaultKMeans(seed int64) KMeans {
	return KMeans{Seed: seed, Restarts: 10, MaxIter: 300, Tol: 1e-4}
}

// Fit returns one label in [0, k) per point. k must be between 1 and
// len(points). Labels are renumbered by first appearance, so points[0] is
// always in cluster 0.
func (km KMeans) Fit(points [][]float64, k int) []int {
	rng := rand.New(rand.NewSource(km.Seed))
	restarts := max(km.Restarts, 1)

	var best []int
	bestInertia := math.Inf(1)
	for r := 0; r < restarts; r++ {
		labels, inertia := km.lloyd(points, seedCentroids(points, k, rng))
		if inertia < bestInertia {
			best, bestInertia = labels, inertia
		}
	}
	return canonical(best)
}

func (km KMeans) lloyd(points, centroids [][]float64) ([]int, float64) {
	labels := make([]int, len(points))
	dim := len(points[0])
	sums := make([][]float64, len(centroids))
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	counts := make([]int, len(centroids))

	iters := max(km.MaxIter, 1)
	for it := 0; it < iters; it++ {
		assign(points, centroids, labels)

		for i := range sums {
			floats.Scale(0, sums[i])
			counts[i] = 0
		}
		for i, p := range points {
			floats.Add(sums[labels[i]], p)
			counts[labels[i]]++
		}

		var shift float64
		for c := range centroids {
			if counts[c] == 0 {
				continue // empty cluster keeps its centroid
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			shift = math.Max(shift, floats.Distance(sums[c], centroids[c], 2))
			copy(centroids[c], sums[c])
		}
		if shift <= km.Tol {
			break
		}
	}

	inertia := assign(points, centroids, labels)
	return labels, inertia
}

// assign labels each point with its nearest centroid and returns the sum of
// squared distances.
func assign(points, centroids [][]float64, labels []int) float64 {
	var inertia float64
	for i, p := range points {
		bestD := math.Inf(1)
		for c, ctr := range centroids {
			if d := sqDist(p, ctr); d < bestD {
				bestD, labels[i] = d, c
			}
		}
		inertia += bestD
	}
	return inertia
}

// seedCentroids picks k initial centroids with k-means++.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.Intn(len(points))]))

	dist := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centroids {
				d = math.Min(d, sqDist(p, c))
			}
			dist[i] = d
			total += d
		}

		idx := len(centroids) % len(points)
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target < 0 {
					idx = i
					break
				}
			}
		}
		centroids = append(centroids, clone(points[idx]))
	}
	return centroids
}

// canonical renumbers labels in order of first appearance.
func canonical(labels []int) []int {
	remap := map[int]int{}
	out := make([]int, len(labels))
	for i, l := range labels {
		id, ok := remap[l]
		if !ok {
			id = len(remap)
			remap[l] = id
		}
		out[i] = id
	}
	return out
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
