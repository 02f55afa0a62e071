package backoff

import (
	"testing"
	"time"
)

func TestCalculator(t *testing.T) {
	calc := NewCalculator(LinearStrategy{})

	if got, want := calc.Calculate(2, 100*time.Millisecond, 0, 0), 200*time.Millisecond; got != want {
		t.Errorf("Calculate(2) = %v, want %v", got, want)
	}

	calc.SetStrategy(ExponentialJitterStrategy{})
	if got, want := calc.Calculate(3, 100*time.Millisecond, 5*time.Second, 0), 400*time.Millisecond; got != want {
		t.Errorf("after switching strategy, Calculate(3) = %v, want %v", got, want)
	}

	if _, ok := calc.GetStrategy().(ExponentialJitterStrategy); !ok {
		t.Errorf("GetStrategy() returned wrong type: %T", calc.GetStrategy())
	}
}

func TestGetLinearCalculator(t *testing.T) {
	calc := GetLinearCalculator()
	if calc == nil {
		t.Fatal("GetLinearCalculator() returned nil")
	}
	if _, ok := calc.GetStrategy().(LinearStrategy); !ok {
		t.Errorf("GetLinearCalculator() returned wrong strategy type: %T", calc.GetStrategy())
	}
}

func TestGetExponentialJitterCalculator(t *testing.T) {
	calc := GetExponentialJitterCalculator()
	if calc == nil {
		t.Fatal("GetExponentialJitterCalculator() returned nil")
	}
	if _, ok := calc.GetStrategy().(ExponentialJitterStrategy); !ok {
		t.Errorf("GetExponentialJitterCalculator() returned wrong strategy type: %T", calc.GetStrategy())
	}
}

func BenchmarkCalculatorLinear(b *testing.B) {
	calc := GetLinearCalculator()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		calc.Calculate(i%10, 100*time.Millisecond, 5*time.Second, 0.1)
	}
}
