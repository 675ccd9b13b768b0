package devserver

import "github.com/rs/zerolog"

const (
	DemoUsername = "demo"
	DemoPassword = "demo-password"
)

// SeedDemoData creates the demo user and a few media files, one of which
// always fails transcription.
func SeedDemoData(store *Store, log zerolog.Logger) *User {
	u := store.AddUser(DemoUsername, DemoPassword)
	for _, name := range []string{"interview.mp3", "lecture.mp4", "corrupt.wav"} {
		f := store.AddFile(u.ID, name)
		log.Info().Int64("file_id", f.ID).Str("name", f.Name).Msg("[Seeder] File created")
	}
	log.Info().Str("username", DemoUsername).Str("password", DemoPassword).Msg("[Seeder] Demo user created")
	return u
}
