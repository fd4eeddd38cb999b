package venue

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/onnwee/cafeindex/internal/rtree"
)

// GeoJSON renders the current tree as a feature collection: one polygon
// per node box and one point per record.
func (idx *Index) GeoJSON() *geojson.FeatureCollection {
	idx.mu.Lock()
	snap := idx.tree.Snapshot()
	recs := idx.tree.Items()
	idx.mu.Unlock()

	return SnapshotGeoJSON(snap, recs)
}

// SnapshotGeoJSON converts a snapshot of a two-dimensional tree and its
// records into GeoJSON. Node features carry "kind": "node" with id, level,
// leaf and score properties; record features carry "kind": "record" with
// id, name and features.
func SnapshotGeoJSON(snap rtree.Snapshot, recs []Record) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, n := range snap.Nodes {
		if n.Box.Dims() != 2 {
			continue
		}
		bound := orb.Bound{
			Min: orb.Point{n.Box.Min[0], n.Box.Min[1]},
			Max: orb.Point{n.Box.Max[0], n.Box.Max[1]},
		}
		f := geojson.NewFeature(bound.ToPolygon())
		f.Properties["kind"] = "node"
		f.Properties["id"] = int(n.ID)
		f.Properties["level"] = n.Level
		f.Properties["leaf"] = n.Leaf
		f.Properties["entries"] = len(n.Children) + len(n.Records)
		if snap.Labeled {
			f.Properties["score"] = n.Score
			f.Properties["bound"] = n.Bound
		}
		fc.Append(f)
	}
	for _, r := range recs {
		f := geojson.NewFeature(orb.Point{r.Location.Lon, r.Location.Lat})
		for k, v := range r.Features {
			f.Properties[k] = v
		}
		f.Properties["kind"] = "record"
		f.Properties["id"] = r.ID
		f.Properties["name"] = r.Name
		fc.Append(f)
	}
	return fc
}
