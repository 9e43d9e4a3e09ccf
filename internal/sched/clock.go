package sched

import "time"

// clock supplies the start/end stamps written to the BuildLog; it is a
// variable so a fixed clock can be substituted.
var clock = time.Now
