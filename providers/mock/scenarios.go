package mock

import "net/http"

// StubWeChat stubs a successful single step exchange returning the given
// identifiers. Pass an empty unionID to omit the field.
func (b *Backchannel) StubWeChat(accessToken, openID, unionID, nickname string) {
	b.Handle(WeChatTokenPath, http.StatusOK, map[string]any{
		"access_token":  accessToken,
		"refresh_token": "RT1",
		"expires_in":    7200,
		"openid":        openID,
		"scope":         "snsapi_login",
	})

	profile := map[string]any{
		"openid":     openID,
		"nickname":   nickname,
		"sex":        1,
		"privilege":  []string{},
		"headimgurl": "",
	}
	if unionID != "" {
		profile["unionid"] = unionID
	}
	b.Handle(WeChatProfilePath, http.StatusOK, profile)
}

// StubDingTalk stubs a successful four step chained exchange.
func (b *Backchannel) StubDingTalk(openID, unionID, nick string) {
	b.Handle(DingTalkTokenPath, http.StatusOK, map[string]any{
		"errcode":      0,
		"errmsg":       "ok",
		"access_token": "APPTOKEN1",
	})
	b.Handle(DingTalkPersistentCodePath, http.StatusOK, map[string]any{
		"errcode":         0,
		"errmsg":          "ok",
		"openid":          openID,
		"unionid":         unionID,
		"persistent_code": "PCODE1",
	})
	b.Handle(DingTalkSessionTokenPath, http.StatusOK, map[string]any{
		"errcode":    0,
		"errmsg":     "ok",
		"sns_token":  "SNS1",
		"expires_in": 7200,
	})
	b.Handle(DingTalkProfilePath, http.StatusOK, map[string]any{
		"errcode": 0,
		"errmsg":  "ok",
		"user_info": map[string]any{
			"nick":    nick,
			"openid":  openID,
			"unionid": unionID,
			"dingId":  "$:LWCP_v1:$" + openID,
		},
	})
}
