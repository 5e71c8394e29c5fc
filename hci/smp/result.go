package smp

// PasskeyAction asks the application for user interaction. NumCmp is the
// six digit value to compare when Action is IONumCmp.
type PasskeyAction struct {
	Handle uint16
	Action IOAction
	NumCmp uint32
}

// result is what one engine step tells the driver to do next. Steps never
// touch the store or the application directly.
type result struct {
	err     error
	smErr   Reason
	execute bool
	encCB   bool
	action  PasskeyAction
}

func (r *result) fail(err error, smErr Reason) {
	r.err = err
	r.smErr = smErr
	r.encCB = true
	r.execute = false
}
