package xmpp

import (
	"context"
	"encoding/xml"
	"fmt"

	"strata.im/xmpp/ibr"
	"strata.im/xmpp/internal/attr"
	"strata.im/xmpp/stanza"
)

// performRegistration drives the in-band registration fallback (XEP-0077,
// spec §4.6 "fall back to in-band registration when the server advertised
// <register/> and the caller opted in and supplied a password"). Like
// bindResource and fetchRoster, this runs before Serve ever starts draining
// the stream, so both the form request and the submission are read
// synchronously off the tokenizer rather than through the pending-request
// table.
func (c *Client) performRegistration() error {
	if c.opts.RegisterForm == nil {
		return fmt.Errorf("%w: in-band registration requires Options.RegisterForm", ErrNotConnected)
	}

	reqID := attr.RandomID()
	if err := c.writeSync(ibr.EncodeFormRequest(reqID, c.opts.User.Bare())); err != nil {
		return err
	}
	_, d, err := c.nextFragmentDecoder()
	if err != nil {
		return err
	}
	qStart, hasPayload, err := firstChild(d)
	if err != nil {
		return err
	}
	if !hasPayload {
		return fmt.Errorf("%w: empty registration form", ErrParse)
	}
	form, err := ibr.DecodeForm(qStart, d)
	if err != nil {
		return err
	}

	submission, ok := c.opts.RegisterForm(form)
	if !ok {
		return fmt.Errorf("%w: registration form declined", ErrNotConnected)
	}

	subID := attr.RandomID()
	if err := c.writeSync(ibr.EncodeSubmission(subID, c.opts.User.Bare(), submission)); err != nil {
		return err
	}
	rStart, rd, err := c.nextFragmentDecoder()
	if err != nil {
		return err
	}
	iq, err := stanza.NewIQ(rStart)
	if err != nil {
		return err
	}
	if iq.Type != stanza.ErrorIQ {
		return nil
	}
	errStart, hasErr, ferr := firstChild(rd)
	if ferr != nil {
		return ferr
	}
	if !hasErr {
		return fmt.Errorf("%w: registration failed", ErrNotConnected)
	}
	se, derr := stanza.UnmarshalError(rd, errStart)
	if derr != nil {
		return derr
	}
	return se
}

// ChangePassword drives the post-connection password-change flow (XEP-0077
// §3.2: fetch the registration form from the account's own server, then
// resubmit it with only the password field changed). Unlike
// performRegistration this runs with Serve already draining the stream, so
// it goes through the pending-request table (C4) like any other IQ.
// OnPasswordChangeForm fires with the fetched form before submission;
// OnPasswordChanged fires once the submission is accepted.
func (c *Client) ChangePassword(ctx context.Context, newPassword string) error {
	to := c.origin.Bare()
	payload, _, err := c.iqSync(ctx, stanza.GetIQ, to, ibr.FormQueryBody())
	if err != nil {
		return fmt.Errorf("xmpp: fetching password-change form: %w", err)
	}
	tok, err := payload.Token()
	if err != nil {
		return err
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return fmt.Errorf("%w: malformed registration form", ErrParse)
	}
	form, err := ibr.DecodeForm(start, payload)
	if err != nil {
		return err
	}
	c.firePasswordChangeForm(form)

	username := c.origin.Localpart()
	sub := ibr.Submission{Username: username, Password: newPassword}
	if _, _, err := c.iqSync(ctx, stanza.SetIQ, to, ibr.SubmissionQueryBody(sub)); err != nil {
		return fmt.Errorf("xmpp: submitting new password: %w", err)
	}
	c.opts.ChangePassword(newPassword)
	c.firePasswordChanged()
	return nil
}
