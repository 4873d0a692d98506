package ahrs

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// FromEuler returns the attitude quaternion for the Tait-Bryan angles roll,
// pitch, yaw (right-handed rotations about body x, y, z, applied yaw first).
func FromEuler(roll, pitch, yaw float64) quat.Number {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)

	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// Euler returns the Tait-Bryan angles roll, pitch, yaw of the attitude q.
func Euler(q quat.Number) (roll, pitch, yaw float64) {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sp := 2 * (w*y - z*x)
	if sp > 1 {
		sp = 1
	} else if sp < -1 {
		sp = -1
	}
	pitch = math.Asin(sp)
	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return
}

// RotationMatrix returns the body-to-world rotation matrix of the unit quaternion q.
func RotationMatrix(q quat.Number) [3][3]float64 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// Rotate takes the body-frame vector v into the world frame.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	return mulVec(RotationMatrix(q), v)
}

// RotateInv takes the world-frame vector v into the body frame.
func RotateInv(q quat.Number, v r3.Vec) r3.Vec {
	return mulVec(transpose(RotationMatrix(q)), v)
}

// RotationVector returns the scaled axis-angle form of q, taking the shortest path.
func RotationVector(q quat.Number) r3.Vec {
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	v := r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	n := r3.Norm(v)
	if n < Small {
		return r3.Scale(2, v)
	}
	return r3.Scale(2*math.Atan2(n, q.Real)/n, v)
}

// SmallAngle returns the normalized quaternion [1, ½δθ] for the small rotation δθ.
func SmallAngle(dtheta r3.Vec) quat.Number {
	return normalizeQ(quat.Number{Real: 1, Imag: dtheta.X / 2, Jmag: dtheta.Y / 2, Kmag: dtheta.Z / 2})
}

// FromRotationVector returns the exact quaternion of the rotation vector phi.
func FromRotationVector(phi r3.Vec) quat.Number {
	a := r3.Norm(phi)
	if a < Small {
		return SmallAngle(phi)
	}
	s := math.Sin(a/2) / a
	return quat.Number{Real: math.Cos(a / 2), Imag: s * phi.X, Jmag: s * phi.Y, Kmag: s * phi.Z}
}

// Heading returns a level attitude pointing at yaw.
func Heading(yaw float64) quat.Number {
	return quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
}

func skew(v r3.Vec) [3][3]float64 {
	return [3][3]float64{
		{0, -v.Z, v.Y},
		{v.Z, 0, -v.X},
		{-v.Y, v.X, 0},
	}
}

// rodrigues returns the rotation matrix of the rotation vector phi.
func rodrigues(phi r3.Vec) [3][3]float64 {
	a := r3.Norm(phi)
	k := skew(phi)
	k2 := mul(k, k)
	var s, c float64
	if a < 1e-6 {
		s, c = 1-a*a/6, 0.5-a*a/24
	} else {
		s, c = math.Sin(a)/a, (1-math.Cos(a))/(a*a)
	}
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = s*k[i][j] + c*k2[i][j]
		}
		r[i][i]++
	}
	return r
}

func mul(a, b [3][3]float64) (c [3][3]float64) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				c[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return
}

func mulVec(a [3][3]float64, v r3.Vec) r3.Vec {
	return r3.Vec{
		X: a[0][0]*v.X + a[0][1]*v.Y + a[0][2]*v.Z,
		Y: a[1][0]*v.X + a[1][1]*v.Y + a[1][2]*v.Z,
		Z: a[2][0]*v.X + a[2][1]*v.Y + a[2][2]*v.Z,
	}
}

func transpose(a [3][3]float64) (t [3][3]float64) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] = a[j][i]
		}
	}
	return
}

func scale(f float64, a [3][3]float64) [3][3]float64 {
	for i := range a {
		for j := range a[i] {
			a[i][j] *= f
		}
	}
	return a
}
