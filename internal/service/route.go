package service

import (
	"fmt"

	"github.com/twpayne/go-polyline"
)

// DecodeRoute turns an encoded polyline into [lat, lng] points.
func DecodeRoute(encoded string) ([][]float64, error) {
	if encoded == "" {
		return [][]float64{}, nil
	}
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	return coords, nil
}

// firstPoint returns the first coordinate of an encoded polyline.
func firstPoint(encoded string) (lat, lng float64, ok bool) {
	coords, err := DecodeRoute(encoded)
	if err != nil || len(coords) == 0 || len(coords[0]) < 2 {
		return 0, 0, false
	}
	return coords[0][0], coords[0][1], true
}
