package pipeline

import "fedipost/internal/model"

// EffectivePrivacy computes the privacy level a new post must carry: the most
// restrictive of the requested level, the parent's level and the quoted
// post's level. A reply or quote can never be more visible than the content
// it attaches to. Nil parent and quoted posts count as public.
func EffectivePrivacy(requested model.Privacy, parent, quoted *model.Post) model.Privacy {
	effective := requested
	if parent != nil && parent.Privacy > effective {
		effective = parent.Privacy
	}
	if quoted != nil && quoted.Privacy > effective {
		effective = quoted.Privacy
	}
	return effective
}
