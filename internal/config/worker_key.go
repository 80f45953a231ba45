package config

type WorkerKeyStruct struct {
	PersistProgressEventsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistProgressEventsQueue: "persist_progress_events_queue",
}
