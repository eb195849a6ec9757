package server

// runMovement consumes the input buffer and advances every moving snake by
// one cell. The network layer never mutates snakes directly; intents are
// applied here, once per tick, and the buffer is cleared whole.
func runMovement(snakes []Snake, inputBuffer map[int]InputIntent, width, height int) {
	if len(inputBuffer) > 0 {
		for i := range snakes {
			intent, ok := inputBuffer[snakes[i].ID]
			if !ok {
				continue
			}
			if intent.HasDesiredDir {
				snakes[i].Dir = intent.DesiredDir
				snakes[i].Paused = false
			}
			if intent.TogglePause {
				snakes[i].Paused = !snakes[i].Paused
			}
		}
		for id := range inputBuffer {
			delete(inputBuffer, id)
		}
	}

	nextHead := make(map[int]Vec2, len(snakes))
	for i := range snakes {
		s := &snakes[i]
		if !s.Alive || s.Paused || s.Dir == DirStop || len(s.Body) == 0 {
			continue
		}
		nextHead[s.ID] = StepWrapped(s.Body[0], s.Dir, width, height)
	}

	// Reversing into the neck is allowed; the self-hit resolves in the
	// collision pass once the head sits inside the old body.
	for i := range snakes {
		s := &snakes[i]
		if !s.Alive {
			continue
		}
		head, ok := nextHead[s.ID]
		if !ok {
			continue
		}
		s.Body = append([]Vec2{head}, s.Body...)
		if s.Grow > 0 {
			s.Grow--
		} else if len(s.Body) > 0 {
			s.Body = s.Body[:len(s.Body)-1]
		}
	}
}
