package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dghubble/oauth1"

	"github.com/agoras-social/agoras/internal/credential"
)

// Fields is a resolved, flat field map handed to a platform module. Values
// arrive fully resolved; modules never touch the store, the crypto layer or
// the callback listener.
type Fields map[string]string

// Post publishes a text message through the platform's API using resolved
// fields. Adapters stop at one posting request each; media pipelines and
// payload composition live outside this module.
func Post(ctx context.Context, client *http.Client, platform credential.Platform, fields Fields, message string) error {
	if client == nil {
		client = http.DefaultClient
	}

	switch platform {
	case credential.PlatformX:
		return postX(ctx, fields, message)
	case credential.PlatformFacebook:
		return postFacebook(ctx, client, fields, message)
	case credential.PlatformInstagram:
		return postGraphTwoStep(ctx, client,
			"https://graph.facebook.com/v20.0/"+fields["account_id"]+"/media",
			"https://graph.facebook.com/v20.0/"+fields["account_id"]+"/media_publish",
			fields[CredKeyAccessToken], url.Values{"caption": {message}})
	case credential.PlatformLinkedIn:
		return postLinkedIn(ctx, client, fields, message)
	case credential.PlatformDiscord:
		return postDiscord(ctx, client, fields, message)
	case credential.PlatformYouTube:
		return postYouTube(ctx, client, fields, message)
	case credential.PlatformTikTok:
		return postTikTok(ctx, client, fields, message)
	case credential.PlatformThreads:
		return postGraphTwoStep(ctx, client,
			"https://graph.threads.net/v1.0/"+fields["account_id"]+"/threads",
			"https://graph.threads.net/v1.0/"+fields["account_id"]+"/threads_publish",
			fields[CredKeyAccessToken], url.Values{"media_type": {"TEXT"}, "text": {message}})
	case credential.PlatformTelegram:
		return postTelegram(ctx, client, fields, message)
	case credential.PlatformWhatsApp:
		return postWhatsApp(ctx, client, fields, message)
	default:
		return fmt.Errorf("no posting adapter for platform %q", platform)
	}
}

func postX(ctx context.Context, fields Fields, message string) error {
	cfg := oauth1.NewConfig(fields["api_key"], fields["api_secret"])
	token := oauth1.NewToken(fields[CredKeyAccessToken], fields[CredKeyTokenSecret])
	client := cfg.Client(ctx, token)

	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.twitter.com/2/tweets", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doPost(client, req, credential.PlatformX)
}

func postFacebook(ctx context.Context, client *http.Client, fields Fields, message string) error {
	form := url.Values{
		"message":      {message},
		"access_token": {fields[CredKeyAccessToken]},
	}
	endpoint := "https://graph.facebook.com/v20.0/" + fields["object_id"] + "/feed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doPost(client, req, credential.PlatformFacebook)
}

// postGraphTwoStep drives the Graph-style container-then-publish sequence
// shared by Instagram and Threads.
func postGraphTwoStep(ctx context.Context, client *http.Client, createURL, publishURL, accessToken string, params url.Values) error {
	params.Set("access_token", accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, createURL, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return postError(resp)
	}

	var container struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&container); err != nil {
		return fmt.Errorf("decoding container response: %w", err)
	}

	publish := url.Values{
		"creation_id":  {container.ID},
		"access_token": {accessToken},
	}
	pubReq, err := http.NewRequestWithContext(ctx, http.MethodPost, publishURL, strings.NewReader(publish.Encode()))
	if err != nil {
		return err
	}
	pubReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doPostReq(client, pubReq)
}

func postLinkedIn(ctx context.Context, client *http.Client, fields Fields, message string) error {
	payload := map[string]any{
		"author":         "urn:li:person:" + fields["author_id"],
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": message},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.linkedin.com/v2/ugcPosts", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+fields[CredKeyAccessToken])
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	return doPost(client, req, credential.PlatformLinkedIn)
}

func postDiscord(ctx context.Context, client *http.Client, fields Fields, message string) error {
	body, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return err
	}
	endpoint := "https://discord.com/api/v10/channels/" + fields["channel_id"] + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+fields["bot_token"])
	return doPost(client, req, credential.PlatformDiscord)
}

func postYouTube(ctx context.Context, client *http.Client, fields Fields, message string) error {
	// Opens a resumable upload session with the message as title. Feeding the
	// media stream into the session is the caller's concern.
	payload := map[string]any{
		"snippet": map[string]string{"title": message, "channelId": fields["channel_id"]},
		"status":  map[string]string{"privacyStatus": "public"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := "https://www.googleapis.com/upload/youtube/v3/videos?uploadType=resumable&part=snippet,status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+fields[CredKeyAccessToken])
	return doPost(client, req, credential.PlatformYouTube)
}

func postTikTok(ctx context.Context, client *http.Client, fields Fields, message string) error {
	payload := map[string]any{
		"post_info": map[string]any{
			"title":         message,
			"privacy_level": "PUBLIC_TO_EVERYONE",
		},
		"source_info": map[string]string{"source": "FILE_UPLOAD"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://open.tiktokapis.com/v2/post/publish/video/init/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+fields[CredKeyAccessToken])
	return doPost(client, req, credential.PlatformTikTok)
}

func postTelegram(ctx context.Context, client *http.Client, fields Fields, message string) error {
	form := url.Values{
		"chat_id": {fields["chat_id"]},
		"text":    {message},
	}
	endpoint := "https://api.telegram.org/bot" + fields["bot_token"] + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doPost(client, req, credential.PlatformTelegram)
}

func postWhatsApp(ctx context.Context, client *http.Client, fields Fields, message string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                fields["recipient"],
		"type":              "text",
		"text":              map[string]string{"body": message},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := "https://graph.facebook.com/v20.0/" + fields["phone_number_id"] + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+fields[CredKeyAccessToken])
	return doPost(client, req, credential.PlatformWhatsApp)
}

func doPost(client *http.Client, req *http.Request, platform credential.Platform) error {
	if err := doPostReq(client, req); err != nil {
		return fmt.Errorf("%s: %w", platform, err)
	}
	return nil
}

func doPostReq(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return postError(resp)
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func postError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("post rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
}
