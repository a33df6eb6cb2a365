package topicmgr

import (
	"fmt"
	"regexp"
	"strings"
)

// Topic names are dot separated lowercase segments: presence.user.online.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-z][a-z0-9]*)*$`)

// ValidateName checks a topic name against the naming convention.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("name too long (max 100 characters)")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("name %q must be lowercase alphanumeric segments separated by dots", name)
	}
	return nil
}

func validateDefinition(topic Topic) error {
	if topic == nil {
		return fmt.Errorf("topic cannot be nil")
	}
	if err := ValidateName(topic.Name()); err != nil {
		return err
	}
	if strings.TrimSpace(topic.Description()) == "" {
		return fmt.Errorf("topic description cannot be empty")
	}
	switch topic.Scope() {
	case ScopeFramework:
		if topic.Module() != "" {
			return fmt.Errorf("framework topics should not have a module")
		}
	case ScopeModule:
		if topic.Module() == "" {
			return fmt.Errorf("module topics must name their module")
		}
		if !strings.HasPrefix(topic.Name(), topic.Module()+".") {
			return fmt.Errorf("module topic %q should start with %q", topic.Name(), topic.Module()+".")
		}
	default:
		return fmt.Errorf("invalid topic scope: %s", topic.Scope())
	}
	return nil
}
