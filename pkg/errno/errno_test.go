package errno

import "testing"

func TestIdentityComparison(t *testing.T) {
	var err error = IO
	if !Is(err, IO) {
		t.Fatal("Is(IO, IO) = false")
	}
	if Is(err, BadAddress) {
		t.Fatal("Is(IO, BadAddress) = true")
	}
}

func TestDistinctMessages(t *testing.T) {
	if IO.Error() == BadAddress.Error() {
		t.Fatal("distinct errno values must not share a message")
	}
}
