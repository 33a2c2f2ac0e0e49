package domain

import (
	"github.com/bmstu-itstech/bitbattle/pkg/validator"
)

// Validate validates a User (display name reuses the username charset rule).
func (u *User) Validate() error {
	errs := validator.ValidationErrors{}

	if err := validator.ValidateUsername(u.DisplayName); err != nil {
		errs = append(errs, err.(*validator.ValidationError))
	}

	if err := validator.ValidateEmail(u.Email); err != nil {
		errs = append(errs, err.(*validator.ValidationError))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidatePassword validates a password at registration time.
func ValidatePassword(password string) error {
	return validator.ValidatePassword(password)
}

// Validate validates a Problem record at seed time.
func (p *Problem) Validate() error {
	errs := validator.ValidationErrors{}

	if err := validator.ValidateRequired("title", p.Title); err != nil {
		errs = append(errs, err.(*validator.ValidationError))
	}

	validDifficulties := []string{string(DifficultyEasy), string(DifficultyMedium), string(DifficultyHard)}
	if err := validator.ValidateEnum("difficulty", string(p.Difficulty), validDifficulties); err != nil {
		errs = append(errs, err.(*validator.ValidationError))
	}

	if len(p.HiddenTests) == 0 {
		errs.Add("hidden_tests", "at least one hidden test is required")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates a Submission request before it reaches the pipeline.
func (s *Submission) Validate() error {
	errs := validator.ValidationErrors{}

	if err := validator.ValidateRoomCode(s.RoomCode); err != nil {
		errs = append(errs, err.(*validator.ValidationError))
	}

	if err := validator.ValidateRequired("language", s.Language); err != nil {
		errs = append(errs, err.(*validator.ValidationError))
	}

	if err := validator.ValidateRequired("source", s.Source); err != nil {
		errs = append(errs, err.(*validator.ValidationError))
	} else if err := validator.ValidateLength("source", s.Source, 1, 65536); err != nil {
		errs = append(errs, err.(*validator.ValidationError))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidDifficulty reports whether d is one of Easy/Medium/Hard/Any.
func ValidDifficulty(d string) bool {
	switch Difficulty(d) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyAny:
		return true
	default:
		return false
	}
}

// ValidGameMode reports whether m is Casual or Ranked.
func ValidGameMode(m string) bool {
	switch GameMode(m) {
	case ModeCasual, ModeRanked:
		return true
	default:
		return false
	}
}
