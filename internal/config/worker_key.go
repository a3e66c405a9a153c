package config

type WorkerKeyStruct struct {
	// AttemptDeadlines is a sorted set: member = attempt id, score = deadline in unix millis.
	AttemptDeadlines      string
	FinalizeAttemptsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	AttemptDeadlines:      "attempt_deadlines",
	FinalizeAttemptsQueue: "finalize_attempts_queue",
}
