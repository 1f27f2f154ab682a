package artifacts

import "strings"

// taesdVariants are the tiny autoencoders that ship as separate encoder and
// decoder files in the vae_approx folder.
var taesdVariants = []string{"taesd", "taesdxl", "taesd3", "taef1"}

// ListVAEs returns the VAE choices: the built-in sentinel, every file in the
// vae folders, then each TAESD variant whose encoder and decoder are both present.
func (s *FolderStore) ListVAEs() ([]string, error) {
	vaes := []string{BuiltinVAE}
	files, err := s.List(KindVAE)
	if err != nil {
		return nil, err
	}
	vaes = append(vaes, files...)

	approx, err := s.List(KindVAEApprox)
	if err != nil {
		return nil, err
	}
	for _, v := range taesdVariants {
		if hasPrefixed(approx, v+"_encoder.") && hasPrefixed(approx, v+"_decoder.") {
			vaes = append(vaes, v)
		}
	}
	return vaes, nil
}

// IsTAESD reports whether name refers to one of the approximate VAEs.
func IsTAESD(name string) bool {
	for _, v := range taesdVariants {
		if v == name {
			return true
		}
	}
	return false
}

func hasPrefixed(names []string, prefix string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}
