package stereo

import "math"

// Triangulate computes the 3D position (feet, calibration frame) of a point
// seen at leftCentroid and rightCentroid in a rectified stereo pair, using
// the standard pinhole disparity relation:
//
//	disparity = leftX - rightX
//	Z = (focal * baseline) / disparity
//	X = (leftX - principalX) * Z / focal
//	Y = (leftY - principalY) * Z / focal
//
// A non-positive disparity (right detection at or right of the left
// detection) means no valid depth; ok is false in that case.
func Triangulate(leftCentroid, rightCentroid [2]float64, cal Calibration) (xyzFt [3]float64, ok bool) {
	disparity := leftCentroid[0] - rightCentroid[0]
	if disparity <= 0 {
		return xyzFt, false
	}

	z := (cal.FocalPx * cal.BaselineFt) / disparity
	x := (leftCentroid[0] - cal.PrincipalX) * z / cal.FocalPx
	y := (leftCentroid[1] - cal.PrincipalY) * z / cal.FocalPx

	return [3]float64{x, y, z}, true
}

// EpipolarConsistency scores how well a candidate left/right pair agrees
// with the rectified-stereo assumption that matched points share the same
// row: 1.0 for a perfect row match, decaying as the vertical pixel gap
// grows.
func EpipolarConsistency(leftCentroid, rightCentroid [2]float64) float64 {
	rowGap := math.Abs(leftCentroid[1] - rightCentroid[1])
	return 1.0 / (1.0 + rowGap)
}
