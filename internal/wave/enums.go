package wave

import "fmt"

// WindowFunction identifies the taper applied to a sample window before
// the frequency transform.
type WindowFunction string

const (
	// WindowRectangular applies no taper.
	WindowRectangular WindowFunction = "rectangular"

	// WindowHann applies the raised-cosine Hann taper.
	WindowHann WindowFunction = "hann"

	// WindowHamming applies the Hamming taper.
	WindowHamming WindowFunction = "hamming"

	// WindowBlackman applies the three-term Blackman taper.
	WindowBlackman WindowFunction = "blackman"
)

// String returns the string representation of the window function.
func (w WindowFunction) String() string {
	return string(w)
}

// IsValid returns true if the window function is a known valid value.
func (w WindowFunction) IsValid() bool {
	switch w {
	case WindowRectangular, WindowHann, WindowHamming, WindowBlackman:
		return true
	default:
		return false
	}
}

// ParseWindowFunction converts a config string into a WindowFunction.
func ParseWindowFunction(s string) (WindowFunction, error) {
	w := WindowFunction(s)
	if !w.IsValid() {
		return "", &ValidationError{Field: "windowFunction", Reason: fmt.Sprintf("unknown window function %q", s)}
	}
	return w, nil
}

// OverflowPolicy identifies how an acquisition buffer behaves when a
// write arrives with no free slot. The policy is fixed per buffer
// instance at construction.
type OverflowPolicy string

const (
	// OverflowBlock parks the writer until a consumer frees a slot.
	OverflowBlock OverflowPolicy = "block"

	// OverflowOverwriteOldest evicts the oldest unread frame and counts
	// the loss.
	OverflowOverwriteOldest OverflowPolicy = "overwrite_oldest"
)

// String returns the string representation of the policy.
func (p OverflowPolicy) String() string {
	return string(p)
}

// IsValid returns true if the policy is a known valid value.
func (p OverflowPolicy) IsValid() bool {
	switch p {
	case OverflowBlock, OverflowOverwriteOldest:
		return true
	default:
		return false
	}
}

// ParseOverflowPolicy converts a config string into an OverflowPolicy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	p := OverflowPolicy(s)
	if !p.IsValid() {
		return "", &ValidationError{Field: "overflowPolicy", Reason: fmt.Sprintf("unknown overflow policy %q", s)}
	}
	return p, nil
}
