package ctlplane

import "context"

// AddRule adds a rule, idempotent by identifier: an existing identifier
// fails with AlreadyExists.
func (s *Server) AddRule(args *AddRuleArgs, reply *RuleReply) error {
	return withDeadline(args.DeadlineMS, func(ctx context.Context) error {
		rule, err := messageToRule(args.Rule)
		if err != nil {
			fail(&reply.Response, err)
			return nil
		}
		rule.ID = args.Rule.ID
		added, err := s.rules.Add(rule)
		if err != nil {
			fail(&reply.Response, err)
			return nil
		}
		ok(&reply.Response)
		reply.Rule = ruleToMessage(added)
		return nil
	})
}

// UpdateRule updates an existing rule. A missing identifier fails with
// NotFound.
func (s *Server) UpdateRule(args *UpdateRuleArgs, reply *RuleReply) error {
	return withDeadline(args.DeadlineMS, func(ctx context.Context) error {
		rule, err := messageToRule(args.Rule)
		if err != nil {
			fail(&reply.Response, err)
			return nil
		}
		updated, err := s.rules.Update(args.ID, rule)
		if err != nil {
			fail(&reply.Response, err)
			return nil
		}
		ok(&reply.Response)
		reply.Rule = ruleToMessage(updated)
		return nil
	})
}

// DeleteRule removes a rule. A missing identifier fails with NotFound.
func (s *Server) DeleteRule(args *DeleteRuleArgs, reply *Response) error {
	return withDeadline(args.DeadlineMS, func(ctx context.Context) error {
		if err := s.rules.Delete(args.ID); err != nil {
			fail(reply, err)
			return nil
		}
		ok(reply)
		return nil
	})
}

// GetRule fetches a single rule by identifier.
func (s *Server) GetRule(args *GetRuleArgs, reply *RuleReply) error {
	rule, err := s.rules.Get(args.ID)
	if err != nil {
		fail(&reply.Response, err)
		return nil
	}
	ok(&reply.Response)
	reply.Rule = ruleToMessage(rule)
	return nil
}

// ListRules returns a page of rules in priority order.
func (s *Server) ListRules(args *ListRulesArgs, reply *ListRulesReply) error {
	rules := s.rules.List(args.Offset, args.Limit)
	reply.Rules = make([]Rule, 0, len(rules))
	for _, r := range rules {
		reply.Rules = append(reply.Rules, ruleToMessage(r))
	}
	reply.Total = s.rules.Count()
	ok(&reply.Response)
	return nil
}
