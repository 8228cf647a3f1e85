package pf

import "fmt"

// MinRemainingFraction is the share of the repository volume that must stay
// free after a backup of a directory.
const MinRemainingFraction = 0.05

// RemainingFraction returns the share of the volume that would remain free
// after storing sizeMB: (avail - size) / total.
func RemainingFraction(space *SpaceInfo, sizeMB int64) (float64, error) {
	if space.TotalMB <= 0 {
		return 0, fmt.Errorf("volume reports a total size of %d MB", space.TotalMB)
	}
	return float64(space.AvailMB-sizeMB) / float64(space.TotalMB), nil
}

// admit runs the space admission check for backing up dirPath into the
// repository at location. It must run before any engine call or catalog
// write.
// Remote repositories are rejected.
func (s *Service) admit(location, dirPath string) error {
	if IsRemoteLocation(location) {
		return fmt.Errorf("%w: %s", ErrRemoteRepository, location)
	}
	space, err := s.probe.SpaceInfo(location)
	if err != nil {
		return fmt.Errorf("probing free space of %s: %w", location, err)
	}
	size, err := s.probe.RecursiveSize(dirPath)
	if err != nil {
		return fmt.Errorf("probing size of %s: %w", dirPath, err)
	}

	remaining, err := RemainingFraction(space, size)
	if err != nil {
		return fmt.Errorf("probing free space of %s: %w", location, err)
	}

	s.logger.Info("remaining space after backup",
		"repository", location,
		"directory", dirPath,
		"size_mb", size,
		"avail_mb", space.AvailMB,
		"total_mb", space.TotalMB,
		"remaining", remaining,
	)

	if remaining < MinRemainingFraction {
		return fmt.Errorf("%w: backing up %s (%d MB) would leave %.1f%% of %s free",
			ErrInsufficientSpace, dirPath, size, remaining*100, location)
	}
	return nil
}
