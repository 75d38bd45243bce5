package generic

// Void is a zero-size value, for sets and for Result values of functions that only return an error.
type Void struct{}

func NewVoid() Void {
	return Void{}
}
