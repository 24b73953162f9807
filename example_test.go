package slidingrate_test

import (
	"fmt"
	"time"

	"github.com/cnlangzi/slidingrate"
)

func ExampleExecute() {
	clock := slidingrate.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	l, err := slidingrate.New(
		slidingrate.WithMaxAttempts(3),
		slidingrate.WithWindow(time.Second),
		slidingrate.WithClock(clock),
		slidingrate.WithOnExceeded(func() { fmt.Println("too many attempts, try later") }),
	)
	if err != nil {
		panic(err)
	}

	submit := func() {
		id, ok, err := slidingrate.Execute(l, func() (string, error) { return "order placed", nil })
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if ok {
			fmt.Println(id)
		}
	}

	submit()
	submit()
	submit()
	submit()
	fmt.Println("retry in", l.TimeUntilReset())

	clock.Advance(1001 * time.Millisecond)
	submit()
	fmt.Println("remaining", l.Remaining())

	// Output:
	// order placed
	// order placed
	// order placed
	// too many attempts, try later
	// retry in 1s
	// order placed
	// remaining 2
}
