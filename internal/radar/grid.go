package radar

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	// HalfWorldCircumference is the Web Mercator half extent in metres.
	HalfWorldCircumference = 20037508.342789244

	// TileSize is the edge of every viewer and provider tile in pixels.
	TileSize = 256

	// BoundaryEpsilon keeps a provider tile that only touches an edge of the
	// viewer tile out of the overlap set. Projected units.
	BoundaryEpsilon = 0.01
)

// TileMatrixEntry describes a provider grid at one zoom level in the viewer's
// projected coordinates. The origin is the top-left corner of tile (0, 0).
type TileMatrixEntry struct {
	Identifier string  `json:"identifier,omitempty" mapstructure:"identifier"`
	OriginX    float64 `json:"originX" mapstructure:"origin_x"`
	OriginY    float64 `json:"originY" mapstructure:"origin_y"`
	Cols       int     `json:"cols" mapstructure:"cols"`
	Rows       int     `json:"rows" mapstructure:"rows"`

	// TileSpan is the provider tile edge in projected units. Zero means the
	// provider tile has the viewer's span at that zoom.
	TileSpan float64 `json:"tileSpan,omitempty" mapstructure:"tile_span"`
}

// TileMatrix maps viewer zoom levels to the provider grid at that zoom.
// Zooms without an entry have no coverage.
type TileMatrix map[int]TileMatrixEntry

// Zooms returns the covered zoom levels in ascending order.
func (m TileMatrix) Zooms() []int {
	zooms := make([]int, 0, len(m))
	for z := range m {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)
	return zooms
}

// Overlapping looks up the entry for t's zoom and reconciles against it.
func (m TileMatrix) Overlapping(t TileAddress) []ProviderTile {
	entry, ok := m[t.Zoom]
	if !ok {
		return nil
	}
	return OverlappingTiles(t, entry)
}

// ProviderTile is a provider grid cell and where its top-left corner lands
// inside the viewer tile, in pixels. Offsets are negative when the provider
// tile starts left of or above the viewer tile.
type ProviderTile struct {
	Col     int `json:"col"`
	Row     int `json:"row"`
	OffsetX int `json:"offsetX"`
	OffsetY int `json:"offsetY"`
}

// Span returns the projected edge length of a viewer tile at zoom.
func Span(zoom int) float64 {
	return 2 * HalfWorldCircumference / math.Pow(2, float64(zoom))
}

// Bounds returns the projected bounding box of a viewer tile. Northing grows
// upward while rows grow downward.
func Bounds(t TileAddress) (minX, minY, maxX, maxY float64) {
	span := Span(t.Zoom)
	minX = -HalfWorldCircumference + float64(t.Col)*span
	maxX = minX + span
	maxY = HalfWorldCircumference - float64(t.Row)*span
	minY = maxY - span
	return minX, minY, maxX, maxY
}

// OverlappingTiles returns every provider tile of entry that intersects the
// viewer tile t, together with its pixel offset inside t. Cells outside the
// provider grid do not exist and are left out.
func OverlappingTiles(t TileAddress, entry TileMatrixEntry) []ProviderTile {
	if entry.Cols <= 0 || entry.Rows <= 0 {
		return nil
	}

	span := Span(t.Zoom)
	pspan := entry.TileSpan
	if pspan <= 0 {
		pspan = span
	}
	minX, minY, maxX, maxY := Bounds(t)

	colLo := int(math.Floor((minX - entry.OriginX + BoundaryEpsilon) / pspan))
	colHi := int(math.Floor((maxX - entry.OriginX - BoundaryEpsilon) / pspan))
	rowLo := int(math.Floor((entry.OriginY - maxY + BoundaryEpsilon) / pspan))
	rowHi := int(math.Floor((entry.OriginY - minY - BoundaryEpsilon) / pspan))

	colLo = max(colLo, 0)
	rowLo = max(rowLo, 0)
	colHi = min(colHi, entry.Cols-1)
	rowHi = min(rowHi, entry.Rows-1)
	if colLo > colHi || rowLo > rowHi {
		return nil
	}

	tiles := make([]ProviderTile, 0, (colHi-colLo+1)*(rowHi-rowLo+1))
	for row := rowLo; row <= rowHi; row++ {
		top := entry.OriginY - float64(row)*pspan
		offY := int(math.Round((maxY - top) / span * TileSize))
		for col := colLo; col <= colHi; col++ {
			left := entry.OriginX + float64(col)*pspan
			tiles = append(tiles, ProviderTile{
				Col:     col,
				Row:     row,
				OffsetX: int(math.Round((left - minX) / span * TileSize)),
				OffsetY: offY,
			})
		}
	}
	return tiles
}

// ProviderTileSize returns the pixel edge a provider tile of entry occupies
// when drawn inside a viewer tile at zoom.
func ProviderTileSize(zoom int, entry TileMatrixEntry) int {
	if entry.TileSpan <= 0 {
		return TileSize
	}
	return int(math.Round(entry.TileSpan / Span(zoom) * TileSize))
}

// ExpandTemplate substitutes {z}, {x} and {y} in a slippy-map URL template.
func ExpandTemplate(tmpl string, t TileAddress) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(t.Zoom),
		"{x}", strconv.Itoa(t.Col),
		"{y}", strconv.Itoa(t.Row),
	)
	return r.Replace(tmpl)
}

// TileForLonLat returns the viewer tile containing the WGS84 point at zoom.
func TileForLonLat(lon, lat float64, zoom int) TileAddress {
	n := math.Pow(2, float64(zoom))
	latRad := lat * math.Pi / 180
	col := int(math.Floor((lon + 180) / 360 * n))
	row := int(math.Floor((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n))
	limit := int(n) - 1
	return TileAddress{
		Zoom: zoom,
		Col:  min(max(col, 0), limit),
		Row:  min(max(row, 0), limit),
	}
}
