package engine

import "log"

// Peripherals is the hook for disabling the microphone, speaker, and
// projector while an install is applied. The daemon guarantees Enable is
// called on every exit path out of the installing state, including a restart
// after a crash mid-install.
type Peripherals interface {
	Disable() error
	Enable() error
}

// LogPeripherals is the default controller on platforms without a peripheral
// bus. It only records the transitions.
type LogPeripherals struct{}

func (LogPeripherals) Disable() error {
	log.Printf("[Engine] Peripherals suppressed for install")
	return nil
}

func (LogPeripherals) Enable() error {
	log.Printf("[Engine] Peripherals re-enabled")
	return nil
}
